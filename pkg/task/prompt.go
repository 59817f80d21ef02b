package task

import "strings"

// BuildPrompt assembles the text sent to the model: attached file names and
// the repository reference, the agent's system prompt, then the request.
func BuildPrompt(systemPrompt, message string, files []string, repoRef string) string {
	var context strings.Builder
	if len(files) > 0 {
		context.WriteString("Attached files: ")
		context.WriteString(strings.Join(files, ", "))
		context.WriteString("\n")
	}
	if repoRef != "" {
		context.WriteString("Repository: ")
		context.WriteString(repoRef)
		context.WriteString("\n")
	}
	return context.String() + "\n" + systemPrompt + "\n\nUser request: " + message
}
