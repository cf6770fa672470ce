package judge

import (
	"path/filepath"
	"strings"
)

// Judge0 language ids.
const (
	LanguageBash       = 46
	LanguageC          = 50
	LanguageCSharp     = 51
	LanguageCPP        = 54
	LanguageGo         = 60
	LanguageJava       = 62
	LanguageJavaScript = 63
	LanguagePHP        = 68
	LanguagePython     = 71
	LanguageRuby       = 72
	LanguageRust       = 73
	LanguageTypeScript = 74
	LanguageKotlin     = 78
	LanguageSwift      = 83
	LanguagePlainText  = 43
)

var languageByExtension = map[string]int{
	"sh":    LanguageBash,
	"c":     LanguageC,
	"cs":    LanguageCSharp,
	"cpp":   LanguageCPP,
	"go":    LanguageGo,
	"java":  LanguageJava,
	"js":    LanguageJavaScript,
	"php":   LanguagePHP,
	"py":    LanguagePython,
	"rb":    LanguageRuby,
	"rs":    LanguageRust,
	"ts":    LanguageTypeScript,
	"kt":    LanguageKotlin,
	"swift": LanguageSwift,
	"txt":   LanguagePlainText,
}

// LanguageForFilename maps a file extension to its Judge0 language id.
func LanguageForFilename(filename string) (int, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	id, ok := languageByExtension[ext]
	return id, ok
}
