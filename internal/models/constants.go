package models

const (
	MetaSource     = "source"
	MetaFilename   = "filename"
	MetaPage       = "page"
	MetaChunk      = "chunk"
	MetaModel      = "embedding_model"
	MetaVersion    = "version"
	ContextJoiner  = "\n\n"
	DefaultTopK    = 4
	DefaultChunk   = 1000
	DefaultOverlap = 200
)

var (
	// QAPromptTemplate is rendered with the "context" and "question" variables.
	QAPromptTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{{.context}}

Question: {{.question}}
Helpful Answer:`
)
