package summary

import "fmt"

// SummaryConfidence is the confidence recorded for LLM summaries. The LLM
// host reports no confidence of its own; this constant is passed through
// opaquely.
const SummaryConfidence = 0.85

// CorrectionSystemPrompt instructs the model to fix recognition errors
// without changing the meaning of the transcript.
const CorrectionSystemPrompt = `あなたは音声認識テキストの校正者です。
音声認識の誤りや不自然な表現を修正し、読みやすく整形してください。

修正のルール:
1. 誤字脱字を修正する
2. 文脈から明らかに間違っている単語を正しい単語に置き換える
3. 句読点を適切に追加する
4. 改行を適切に追加して読みやすくする
5. 元の意味を変えない
6. 敬語や話し言葉はそのまま残す
7. 専門用語や固有名詞は文脈から推測して正確に修正する

修正後のテキストのみを出力してください。`

// BuildCorrectionPrompt wraps the raw transcript for the correction stage.
func BuildCorrectionPrompt(text string) string {
	return fmt.Sprintf("【元のテキスト】\n%s\n\n【修正後のテキスト】\n", text)
}

// SummarySystemPrompt instructs the model to produce the meeting-minutes
// Markdown with the canonical headings. The output is stored verbatim and
// parsed by heading, so the heading set is fixed.
const SummarySystemPrompt = `あなたは会議の議事録作成者です。
会議の転写テキストを分析し、以下の見出し構成のMarkdownで議事録を作成してください。

# 要約
（会議の概要を3〜5行で）

## 議題・議論内容
- （議題・議論内容を箇条書き）

## 決定事項
- （決定事項を箇条書き）

## ToDo
- [ ] （ToDoを担当者付きで箇条書き）

## 次のアクション
- （次のアクションを箇条書き）

## 次回会議
（次回会議の予定。なければ空欄）

見出しは上記のものを必ずそのまま使用し、必ず日本語で回答してください。`

// BuildSummaryPrompt wraps the corrected transcript for the summarize stage.
func BuildSummaryPrompt(text string) string {
	return fmt.Sprintf("転写テキスト:\n%s\n", text)
}
