package pipeline

import "strings"

// 句末标点，中英文各三个
var sentenceTerminals = []string{"。", "！", "？", ".", "!", "?"}

// SentenceBuffer 累积流式文本，出现句末标点后整段刷出。
// 以整个缓冲为刷出单位，同一增量里跟在标点后面的文本一起带走，
// 保证送合成的句子顺序与到达顺序一致
type SentenceBuffer struct {
	buf strings.Builder
}

// Append 追加一个文本增量
func (b *SentenceBuffer) Append(chunk string) {
	b.buf.WriteString(chunk)
}

// Ready 缓冲里是否已出现句末标点
func (b *SentenceBuffer) Ready() bool {
	s := b.buf.String()
	for _, p := range sentenceTerminals {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Flush 取出并清空缓冲，返回去除首尾空白后的文本
func (b *SentenceBuffer) Flush() string {
	s := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	return s
}

// Pending 缓冲里是否还有非空白残余
func (b *SentenceBuffer) Pending() bool {
	return strings.TrimSpace(b.buf.String()) != ""
}
