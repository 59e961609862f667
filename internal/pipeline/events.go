package pipeline

// 事件类型与前端约定一致
const (
	EventStart             = "start"
	EventTextChunk         = "text_chunk"
	EventSentenceComplete  = "sentence_complete"
	EventAudioChunk        = "audio_chunk"
	EventSentenceProcessed = "sentence_processed"
	EventTTSError          = "tts_error"
	EventFinalSentence     = "final_sentence"
	EventFinalAudioChunk   = "final_audio_chunk"
	EventFinalTTSError     = "final_tts_error"
	EventComplete          = "complete"
	EventCancelled         = "cancelled"
	EventError             = "error"
)

// Event 流水线进度事件，原样透传给调用方
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	Query           string `json:"query,omitempty"`
	Content         string `json:"content,omitempty"`
	AccumulatedText string `json:"accumulated_text,omitempty"`
	Sentence        string `json:"sentence,omitempty"`
	AudioSize       int    `json:"audio_size,omitempty"`
	Status          string `json:"status,omitempty"`
	FullText        string `json:"full_text,omitempty"`
	Message         string `json:"message,omitempty"`
}
