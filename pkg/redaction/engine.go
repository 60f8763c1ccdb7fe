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

import (
	"fmt"
	"regexp"
)

// Engine 脱敏引擎：纯函数式，输入文本输出（脱敏文本, 统计）；可并发使用
type Engine struct {
	policy *Policy
	rules  map[Category]*regexp.Regexp
}

// 内置检测规则；外部 PII 模型可通过实现与 Redact 相同签名的引擎替换本实现
var builtinRules = map[Category]*regexp.Regexp{
	CategorySSN:        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	CategoryCreditCard: regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
	CategoryPhone:      regexp.MustCompile(`\b(?:\+?1[ .-]?)?\(?\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`),
	CategoryEmail:      regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	CategoryDOB:        regexp.MustCompile(`(?i)\b(?:dob|date of birth|born)[:\s]+\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
	CategoryAddress:    regexp.MustCompile(`\b\d+\s+[A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\.?\b`),
	CategoryName:       regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`),
}

// NewEngine 创建脱敏引擎；policy 可为 nil 表示全类别启用
func NewEngine(policy *Policy) *Engine {
	rules := make(map[Category]*regexp.Regexp, len(builtinRules))
	for c, re := range builtinRules {
		if policy.Enabled(c) {
			rules[c] = re
		}
	}
	return &Engine{policy: policy, rules: rules}
}

// Redact 检测并掩码文本中的 PII，返回脱敏文本与按类别统计。
// 原文本不修改；替换记号形如 [REDACTED:SSN]
func (e *Engine) Redact(text string) (string, Map) {
	result := Map{ByCategory: make(map[Category]int)}
	if text == "" {
		return text, result
	}
	out := text
	for _, category := range AllCategories {
		re, ok := e.rules[category]
		if !ok {
			continue
		}
		token := fmt.Sprintf("[REDACTED:%s]", category)
		n := 0
		out = re.ReplaceAllStringFunc(out, func(string) string {
			n++
			return token
		})
		if n > 0 {
			result.ByCategory[category] += n
			result.Count += n
		}
	}
	return out, result
}
