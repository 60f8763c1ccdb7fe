// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package redaction

// Category PII 类别（固定枚举，见 Map.ByCategory）
type Category string

const (
	CategoryName       Category = "NAME"
	CategoryEmail      Category = "EMAIL"
	CategoryPhone      Category = "PHONE"
	CategorySSN        Category = "SSN"
	CategoryAddress    Category = "ADDRESS"
	CategoryDOB        Category = "DOB"
	CategoryCreditCard Category = "CREDIT_CARD"
)

// AllCategories 按应用顺序排列的全部类别；数字类规则（SSN、卡号）先于电话，
// 避免同一串数字被较宽的规则抢先命中
var AllCategories = []Category{
	CategorySSN,
	CategoryCreditCard,
	CategoryPhone,
	CategoryEmail,
	CategoryDOB,
	CategoryAddress,
	CategoryName,
}

// Map 单篇文档的脱敏统计：总命中数与按类别计数
type Map struct {
	Count      int              `json:"count"`
	ByCategory map[Category]int `json:"by_category"`
}

// Policy 脱敏策略：关闭的类别不参与检测；零值策略全类别启用
type Policy struct {
	Disabled map[Category]bool
}

// NewPolicy 根据关闭类别列表创建策略
func NewPolicy(disabled []string) *Policy {
	p := &Policy{Disabled: make(map[Category]bool)}
	for _, d := range disabled {
		p.Disabled[Category(d)] = true
	}
	return p
}

// Enabled 该类别是否参与检测
func (p *Policy) Enabled(c Category) bool {
	if p == nil || p.Disabled == nil {
		return true
	}
	return !p.Disabled[c]
}
