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
	"context"
	"strings"
	"unicode/utf8"
)

// Engine 文本提取引擎：原始字节 → 正文文本；外部 OCR 引擎可替换内置实现
type Engine interface {
	// ExtractText 按 mime 类型提取正文；不修改输入字节
	ExtractText(ctx context.Context, mimeType string, data []byte) (string, error)
}

// builtinEngine 内置实现：text/plain 直通，application/pdf 走 unipdf，
// 其余类型为合法 UTF-8 时按原文处理，否则视为无可提取文本（仍算成功）
type builtinEngine struct{}

// NewEngine 创建内置文本提取引擎
func NewEngine() Engine {
	return &builtinEngine{}
}

func (e *builtinEngine) ExtractText(ctx context.Context, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	switch {
	case strings.HasPrefix(mimeType, "text/"):
		return strings.TrimSpace(string(data)), nil
	case mimeType == "application/pdf":
		return extractPDFText(data)
	default:
		if utf8.Valid(data) {
			return strings.TrimSpace(string(data)), nil
		}
		return "", nil
	}
}
