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

package extraction

import (
	"regexp"
	"strings"
)

// Event 时间线候选事件：文档中带日期的句子
type Event struct {
	Date    string `json:"date"`    // 原文中的日期写法
	Snippet string `json:"snippet"` // 日期所在句子（截断至 maxSnippetLen）
}

const maxSnippetLen = 200

// 日期写法：2024-03-01、03/01/2024、March 1, 2024 等
var dateRe = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})\b`)

var sentenceSplitRe = regexp.MustCompile(`[.!?]\s+|\n+`)

// ExtractEvents 从正文提取时间线候选：每个含日期的句子产出一条 Event。
// 纯函数；输入为空时返回 nil
func ExtractEvents(text string) []Event {
	if text == "" {
		return nil
	}
	var events []Event
	for _, sentence := range sentenceSplitRe.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		for _, date := range dateRe.FindAllString(sentence, -1) {
			snippet := sentence
			if len(snippet) > maxSnippetLen {
				snippet = snippet[:maxSnippetLen]
			}
			events = append(events, Event{Date: date, Snippet: snippet})
		}
	}
	return events
}
