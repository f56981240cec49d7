// Package keyword matches questions against fixed product and topic
// vocabularies. Matching is plain substring search, first match wins.
package keyword

import (
	"strings"

	"github.com/cestlavie/harvestqa/internal/dataset"
)

// DefaultRowCap bounds the rows returned when no product matches.
const DefaultRowCap = 10000

// Products is the product name vocabulary, scanned in this order.
var Products = []string{
	"奶油波士頓", "奶波", "玉芙蓉", "冰花", "貝比萵", "紅火焰", "紅奶油", "紅狐",
	"紅彤", "紅橙", "紅甜脆", "紅芽心", "紅綠", "英貝比萵", "英貝比萵(不分品種)",
	"恐龍甘藍", "恐龍羽衣甘藍", "粉嫩天使", "捲葉甘藍", "捲葉羽衣甘藍", "菊苣",
	"試種", "綠水晶", "綠火焰", "綠狐", "綠甜脆", "綠橡", "綠蘿蔓", "綠寶石",
}

// Topics is the question topic vocabulary, scanned in this order.
var Topics = []string{
	"產品名稱", "產品編號", "種植日期", "採收日期", "狀態",
	"多少顆", "多少斤", "多少公斤", "多少公克", "多少片", "多少株", "多少棵",
	"多少株數", "多少片數", "多少斤數", "多少公斤數", "多少公克數",
	"最多", "最少", "平均", "中位數", "標準差", "變異數", "最大值", "最小值",
	"總和", "總計", "總數", "總量", "總重量", "總斤數", "總公斤數", "總公克數",
	"價格", "單價", "售價",
}

// Matcher holds the vocabularies a question is matched against.
type Matcher struct {
	Products []string
	Topics   []string
	RowCap   int
}

// Default returns a Matcher over the built-in vocabularies.
func Default() Matcher {
	return Matcher{Products: Products, Topics: Topics, RowCap: DefaultRowCap}
}

// MatchProduct returns the first product vocabulary entry that occurs in
// question.
func (m Matcher) MatchProduct(question string) (string, bool) {
	return firstMatch(m.Products, question)
}

// FilterByProduct narrows ds to rows whose product name contains the first
// vocabulary entry found in question. Without a match it returns the first
// RowCap rows and ok is false.
func (m Matcher) FilterByProduct(ds *dataset.Dataset, question string) (subset *dataset.Dataset, matched string, ok bool) {
	matched, ok = m.MatchProduct(question)
	if !ok {
		limit := m.RowCap
		if limit <= 0 {
			limit = DefaultRowCap
		}
		return ds.Head(limit), "", false
	}
	subset = ds.Filter(func(r dataset.Record) bool {
		return strings.Contains(r.ProductName, matched)
	})
	return subset, matched, true
}

// ExtractTopic returns the first topic vocabulary entry that occurs in
// question.
func (m Matcher) ExtractTopic(question string) (string, bool) {
	return firstMatch(m.Topics, question)
}

// FilterByProduct applies the default Matcher.
func FilterByProduct(ds *dataset.Dataset, question string) (*dataset.Dataset, string, bool) {
	return Default().FilterByProduct(ds, question)
}

// ExtractTopic applies the default Matcher.
func ExtractTopic(question string) (string, bool) {
	return Default().ExtractTopic(question)
}

func firstMatch(vocab []string, question string) (string, bool) {
	for _, term := range vocab {
		if term != "" && strings.Contains(question, term) {
			return term, true
		}
	}
	return "", false
}
