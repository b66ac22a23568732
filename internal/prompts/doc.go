// Package prompts contains the text Tralfaz sends to models and to the
// user: the butler persona and system prompt, the briefing prompt, tool
// descriptions, and the fixed in-character replies.
//
// Prompt text is Go code rather than config because it is program logic:
// templates use fmt.Sprintf interpolation and are validated by tests.
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the final string.
package prompts
