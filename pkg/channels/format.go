package channels

import "strings"

// Only the tag pairs used by the bot's own notices are translated. Any other
// angle bracket or ampersand, such as generics or comparisons in a model
// answer, is content and passes through untouched.
var (
	htmlToMarkdown = strings.NewReplacer(
		"<b>", "**", "</b>", "**",
		"<strong>", "**", "</strong>", "**",
		"<i>", "*", "</i>", "*",
		"<em>", "*", "</em>", "*",
		"<u>", "__", "</u>", "__",
		"<s>", "~~", "</s>", "~~",
		"<code>", "`", "</code>", "`",
		"<pre>", "```\n", "</pre>", "\n```",
	)
	htmlToText = strings.NewReplacer(
		"<b>", "", "</b>", "",
		"<strong>", "", "</strong>", "",
		"<i>", "", "</i>", "",
		"<em>", "", "</em>", "",
		"<u>", "", "</u>", "",
		"<s>", "", "</s>", "",
		"<code>", "", "</code>", "",
		"<pre>", "", "</pre>", "",
	)

	markdownEscaper = strings.NewReplacer(
		`\`, `\\`,
		"*", `\*`,
		"_", `\_`,
		"~", `\~`,
		"`", "\\`",
		"|", `\|`,
	)
)

// renderMarkdown turns the small HTML subset used in replies into Discord
// markdown.
func renderMarkdown(content string) string {
	return htmlToMarkdown.Replace(content)
}

// renderPlain escapes markdown so the text is shown exactly as written.
func renderPlain(content string) string {
	return markdownEscaper.Replace(content)
}

func stripTags(content string) string {
	return htmlToText.Replace(content)
}
