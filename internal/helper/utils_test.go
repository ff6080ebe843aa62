package helper

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-rag/internal/models"
)

func TestSanitizeFilename(t *testing.T) {
	allowed := []string{".pdf"}
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "report.pdf", want: "report.pdf"},
		{in: "Report.PDF", want: "Report.pdf"},
		{in: "../../etc/passwd.pdf", want: "passwd.pdf"},
		{in: `C:\Users\me\thesis final.pdf`, want: "thesis_final.pdf"},
		{in: "résumé 2024.pdf", want: "r_sum_2024.pdf"},
		{in: ".hidden.pdf", want: "hidden.pdf"},
		{in: "notes.txt", wantErr: true},
		{in: "noextension", wantErr: true},
		{in: ".pdf", wantErr: true},
		{in: "", wantErr: true},
		{in: "../", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeFilename(tt.in, allowed)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateUUID(t *testing.T) {
	id, err := GenerateUUID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
}

func TestPrettyPrint(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrint(&buf, map[string]int{"a": 1})
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}

func TestCreateFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(dir))
	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}
