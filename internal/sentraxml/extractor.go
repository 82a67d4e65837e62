// Package sentraxml 解析 sentra 工具协议的 XML 微格式。
//
// 模型输出的自由文本里内嵌 <plan> / <sentra-tools> / <sentra-result> 片段,
// 这里用正则做有界提取 — 标签名固定、同名标签不嵌套, 不是通用 XML 解析器。
// 所有函数为全函数: 任何畸形输入都返回空结果, 永不报错。
package sentraxml

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Block 一个重复标签块: 开标签上的属性 + 内部原始文本。
type Block struct {
	Attrs map[string]string
	Raw   string
}

// Tool 返回块上的 tool 属性 (无则空串)。
func (b Block) Tool() string { return b.Attrs["tool"] }

// Success 返回块上的 success 属性, 缺失或非 "true" 一律视为 false。
func (b Block) Success() bool {
	return strings.EqualFold(strings.TrimSpace(b.Attrs["success"]), "true")
}

var (
	regexCacheMu sync.Mutex
	regexCache   = map[string]*regexp.Regexp{}

	attrRe = regexp.MustCompile(`([a-zA-Z_][\w-]*)\s*=\s*"([^"]*)"`)
)

// cachedRegexp 编译并缓存模式 — 同一标签名反复提取时避免重复编译。
func cachedRegexp(pattern string) *regexp.Regexp {
	regexCacheMu.Lock()
	defer regexCacheMu.Unlock()
	if re, ok := regexCache[pattern]; ok {
		return re
	}
	re := regexp.MustCompile(pattern)
	regexCache[pattern] = re
	return re
}

// ExtractTag 提取第一个 <tag>...</tag> 的内部文本 (大小写不敏感, 去首尾空白)。
//
// 只匹配裸标签 (开标签不带属性) — 用于 <plan> / <sentra-final> 这类单值字段。
// 不存在时返回空串。
func ExtractTag(text, tagName string) string {
	if text == "" || tagName == "" {
		return ""
	}
	name := regexp.QuoteMeta(tagName)
	re := cachedRegexp(fmt.Sprintf(`(?is)<%s>(.*?)</%s>`, name, name))
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractBlocks 全局提取所有 <tag ...>...</tag> 块 (大小写不敏感, 含属性)。
//
// 每个块的开标签属性通过 key="value" 形式解析; 找不到任何块时返回 nil。
func ExtractBlocks(text, blockTagName string) []Block {
	if text == "" || blockTagName == "" {
		return nil
	}
	name := regexp.QuoteMeta(blockTagName)
	re := cachedRegexp(fmt.Sprintf(`(?is)<%s(\s[^>]*)?>(.*?)</%s>`, name, name))
	matches := re.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}

	blocks := make([]Block, 0, len(matches))
	for _, m := range matches {
		attrs := map[string]string{}
		for _, am := range attrRe.FindAllStringSubmatch(m[1], -1) {
			attrs[strings.ToLower(am[1])] = am[2]
		}
		blocks = append(blocks, Block{Attrs: attrs, Raw: m[2]})
	}
	return blocks
}

// typedParamRe 匹配 <parameter name="..."><TYPE>VALUE</TYPE></parameter>。
//
// Go 正则 (RE2) 不支持反向引用, 所以开/闭类型各自捕获,
// 匹配后手工校验两者一致 — 不一致的配对不算命中。
func typedParamRe(name string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(name)
	return cachedRegexp(fmt.Sprintf(
		`(?is)<parameter\s+name="%s">\s*<(string|number|boolean|null)>(.*?)</(string|number|boolean|null)>\s*</parameter>`,
		quoted))
}

// ExtractTypedParam 提取命名参数的类型化叶值。
//
// 匹配 <parameter name="NAME"><TYPE>VALUE</TYPE></parameter>,
// TYPE ∈ {string,number,boolean,null} 且开闭标签类型必须一致;
// 类型不配对或参数缺失时返回空串。
func ExtractTypedParam(xml, name string) string {
	if xml == "" || name == "" {
		return ""
	}
	for _, m := range typedParamRe(name).FindAllStringSubmatch(xml, -1) {
		if strings.EqualFold(m[1], m[3]) {
			return strings.TrimSpace(m[2])
		}
	}
	return ""
}

// ExtractTypedArray 提取命名数组参数的 <string> 子元素列表。
//
// 匹配 <parameter name="NAME"><array>...</array></parameter>,
// 返回数组内每个 <string>...</string> 的内容 (trim 后)。
func ExtractTypedArray(xml, name string) []string {
	if xml == "" || name == "" {
		return nil
	}
	quoted := regexp.QuoteMeta(name)
	re := cachedRegexp(fmt.Sprintf(
		`(?is)<parameter\s+name="%s">\s*<array>(.*?)</array>\s*</parameter>`, quoted))
	m := re.FindStringSubmatch(xml)
	if m == nil {
		return nil
	}

	itemRe := cachedRegexp(`(?is)<string>(.*?)</string>`)
	items := itemRe.FindAllStringSubmatch(m[1], -1)
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, im := range items {
		out = append(out, strings.TrimSpace(im[1]))
	}
	return out
}
