package tts

// 常用音色目录。名字是对外的别名，VoiceType 是
// 合成请求里实际携带的音色标识

// SpeakerProfile 一个音色的配置
type SpeakerProfile struct {
	Name       string
	VoiceType  string
	Language   string
	Gender     string
	SampleRate int32
}

var speakerCatalog = map[string]SpeakerProfile{
	"tongyong_nv": {
		Name:       "tongyong_nv",
		VoiceType:  "zh_female_shuangkuaisisi_moon_bigtts",
		Language:   "zh",
		Gender:     "female",
		SampleRate: 24000,
	},
	"wennuan_nv": {
		Name:       "wennuan_nv",
		VoiceType:  "zh_female_wanwanxiaohe_moon_bigtts",
		Language:   "zh",
		Gender:     "female",
		SampleRate: 24000,
	},
	"cixing_nan": {
		Name:       "cixing_nan",
		VoiceType:  "zh_male_lengkugege_emo_v2_mars_bigtts",
		Language:   "zh",
		Gender:     "male",
		SampleRate: 24000,
	},
}

// LookupSpeaker 按别名查音色。传入别名不存在时按原样当作
// VoiceType 使用，方便直接透传平台音色 ID
func LookupSpeaker(name string) SpeakerProfile {
	if p, ok := speakerCatalog[name]; ok {
		return p
	}
	return SpeakerProfile{Name: name, VoiceType: name, SampleRate: 24000}
}

// ListSpeakers 已登记的音色别名
func ListSpeakers() []string {
	names := make([]string, 0, len(speakerCatalog))
	for name := range speakerCatalog {
		names = append(names, name)
	}
	return names
}
