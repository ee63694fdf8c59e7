package pipeline

import "fmt"

const routerTemplate = `You are an expert at routing a user question to a vectorstore or web search.
Use the vectorstore for questions on LLM agents, prompt engineering, and adversarial attacks.
You do not need to be stringent with the keywords in the question related to these topics.
Otherwise, use web-search. Give a binary choice 'web_search' or 'vectorstore' based on the question.
Return a JSON with a single key 'datasource' and no preamble or explanation.

Question: %s`

const graderTemplate = `You are a grader assessing relevance of a retrieved document to a user question.
Here is the retrieved document:

<document>
%s
</document>

Here is the user question:
<question>
%s
</question>

If the document contains keywords related to the user question, grade it as relevant.
It does not need to be a stringent test. The goal is to filter out erroneous retrievals.
Give a binary score 'yes' or 'no' score to indicate whether the document is relevant to the question.
Provide the binary score as a JSON with a single key 'score' and no preamble or explanation.`

const rewriterTemplate = `You are a question re-writer that converts an input question to a better version that is optimized
for vectorstore retrieval. Look at the initial question and formulate an improved question.

Here is the initial question:

<question>
%s
</question>

Respond only with an improved question. Do not include any preamble or explanation.`

func routerPrompt(question string) string {
	return fmt.Sprintf(routerTemplate, question)
}

func graderPrompt(content, question string) string {
	return fmt.Sprintf(graderTemplate, content, question)
}

func rewriterPrompt(question string) string {
	return fmt.Sprintf(rewriterTemplate, question)
}

func generatePrompt(context, question string) string {
	if context == "" {
		return fmt.Sprintf("Question: %s\n\nAnswer:", question)
	}
	return fmt.Sprintf("Context: %s\n\nQuestion: %s\n\nAnswer:", context, question)
}
