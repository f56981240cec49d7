// Package lang names answer languages for prompts.
package lang

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/cestlavie/harvestqa/internal/qaerr"
)

// Default is the answer language used when none is configured.
var Default = language.MustParse("zh-TW")

// Parse validates a BCP 47 tag. An empty string yields Default.
func Parse(s string) (language.Tag, error) {
	if s == "" {
		return Default, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, &qaerr.ConfigError{Key: "answer.language", Msg: err.Error()}
	}
	return tag, nil
}

// Name renders tag as "<native name> (<English name>)". Chinese tags whose
// script resolves to Hant are named as Traditional Chinese.
func Name(tag language.Tag) string {
	base, _ := tag.Base()
	script, _ := tag.Script()
	if base.String() == "zh" && script.String() == "Hant" {
		return "繁體中文 (Traditional Chinese)"
	}
	native := display.Self.Name(tag)
	english := display.English.Tags().Name(tag)
	if native == "" || native == english {
		return english
	}
	return fmt.Sprintf("%s (%s)", native, english)
}
