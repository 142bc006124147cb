package models

const (
	// ChunkIDFormat is document name followed by the chunk sequence number.
	ChunkIDFormat    = "%s_%d"
	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`
)

var (
	AnswerSystemPrompt = `You are a helpful assistant that answers questions about insurance policy documents. Use only the provided context. If the context does not contain the answer, say so. Cite page numbers when possible.`

	AnswerPromptTemplate = `<context>
%s
</context>
<question>
%s
</question>
Answer the question using the context above.`
)
