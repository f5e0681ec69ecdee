package diagnosis

import (
	"fmt"
	"strconv"
)

const systemPrompt = "You are a helpful industrial maintenance assistant."

const promptTemplate = `
당신은 제조 설비 전문가입니다. 다음 센서 데이터를 바탕으로 장비의 상태를 분석하고 고장 유형과 원인을 추론해주세요.

장비 ID: %s
온도: %s도
진동: %sHz
압력: %sPa

분석 결과는 다음 JSON 형식으로 출력해주세요:
{
    "status": "정상" 또는 "주의" 또는 "위협",
    "diagnosis": "고장 원인 분석 내용 (한글)",
    "recommendation": "조치 사항 (한글)"
}
`

// Input is the reading sent for diagnosis.
type Input struct {
	EquipmentID string
	Temp        float64
	Vibration   float64
	Pressure    float64
}

// BuildPrompt renders the user prompt for an input.
func BuildPrompt(in Input) string {
	return fmt.Sprintf(promptTemplate, in.EquipmentID, formatFloat(in.Temp), formatFloat(in.Vibration), formatFloat(in.Pressure))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
