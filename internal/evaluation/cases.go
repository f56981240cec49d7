package evaluation

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/cestlavie/harvestqa/internal/qaerr"
)

// Case is one question with its expected answer.
type Case struct {
	Question string `yaml:"question" json:"question"`
	Expected string `yaml:"expected" json:"expected"`
}

// DefaultCases is the built-in battery for the product-lifecycle dataset.
func DefaultCases() []Case {
	return []Case{
		{"紅奶油共有多少顆？", "3659顆"},
		{"紅火焰共有多少顆？", "5105顆"},
		{"紅火焰的價格是多少？", "從資料中無法得知價格，因爲無此欄位"},
		{"產品編號為1101是哪個產品？", "產品編號為1101的產品包含紅火焰，紅狐，奶波，綠捲等產品"},
		{"產品編號為1102是哪個產品？", "產品編號為1102的產品包含紅火焰，紅狐，奶波，綠捲等產品"},
		{"統計最多的產品是哪兩種？", "紅火焰，綠橡"},
		{"統計最少的產品是哪兩種？", "奶油波士頓，紅蔓心"},
		{"大部分的產品狀態是什麽", "大部分的產品狀態是種植中"},
		{"產品的種植時間分佈？", "產品的種植時間分佈在 40 到 70天之間，大部分在42天左右"},
		{"最早統計的資料的是哪一筆", "最早統計的資料是 2022-03-03"},
		{"最晚統計的資料的是哪一筆", "最晚統計的資料是 2025-03-24"},
		{"產品編號為1101的產品狀態是什麽？", "產品編號為1101的產品狀態是種植中"},
		{"綠橡的產品編號是多少？", "綠橡的產品編號從5160到8126都有分佈"},
	}
}

// ParseCases decodes a YAML list of cases. A case without a question is a
// *qaerr.SchemaError.
func ParseCases(data []byte) ([]Case, error) {
	var cases []Case
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, eris.Wrap(err, "evaluation: decode cases")
	}
	for i, c := range cases {
		if c.Question == "" {
			return nil, &qaerr.SchemaError{Msg: fmt.Sprintf("case %d has no question", i+1)}
		}
	}
	return cases, nil
}

// LoadCases reads a YAML case file.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "evaluation: read %s", path)
	}
	return ParseCases(data)
}
