// Package prompts embeds the prompt templates used by statement generation
// and answer synthesis.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS
