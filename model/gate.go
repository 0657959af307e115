package model

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/juju/errors"
)

const (
	// Минимальная и максимальная длина голого идентификатора проходной в QR-коде
	PayloadMinLen = 2
	PayloadMaxLen = 64
)

// Ключи, под которыми в QR-коде может лежать идентификатор проходной.
// Порядок важен: первый непустой побеждает
var payloadKeys = []string{"gate_id", "gateId", "id"}

// GatePayload содержимое QR-кода, наклеенного на проходной. Заполняется
// только через Parse, поэтому непустой GateID гарантирован
type GatePayload struct {
	GateID   string `json:"gate_id" conform:"trim" validate:"required"`
	Location string `json:"location" conform:"trim"`
}

// Parse заполняет структуру из сырого текста, снятого сканером. Печатные
// QR-коды на местах встречаются в трёх видах, поэтому интерпретации
// пробуются строго по порядку, первая успешная побеждает:
//    1) JSON-объект {"gate_id":"GATE-1","location":"Главная"}
//    2) URL с параметром запроса ?gate_id=GATE-1&location=...
//    3) голый идентификатор длиной от 2 до 64 символов
// Функция чистая: некорректный текст даёт ошибку, а не панику
func (m *GatePayload) Parse(raw string) error {
	*m = GatePayload{}
	text := strings.TrimSpace(raw)
	if text == "" {
		return errors.New("передано пустое содержимое QR-кода")
	}

	// Интерпретация JSON-объектом. Пустой после обрезки идентификатор
	// считается отсутствующим и отдаёт текст следующим интерпретациям
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		for _, key := range payloadKeys {
			value, ok := obj[key]
			if !ok {
				continue
			}
			if id := strings.TrimSpace(payloadValue(value)); id != "" {
				m.GateID = id
				if location, ok := obj["location"]; ok {
					m.Location = strings.TrimSpace(payloadValue(location))
				}
				return nil
			}
		}
	}

	// Интерпретация URL. Адресом считаем только полноценную ссылку со
	// схемой и хостом, иначе голые токены утекали бы в эту ветку
	if u, err := url.Parse(text); err == nil && u.Scheme != "" && u.Host != "" {
		query := u.Query()
		for _, key := range payloadKeys {
			if id := strings.TrimSpace(query.Get(key)); id != "" {
				m.GateID = id
				m.Location = strings.TrimSpace(query.Get("location"))
				return nil
			}
		}
	}

	// Голый идентификатор
	if length := utf8.RuneCountInString(text); length >= PayloadMinLen && length <= PayloadMaxLen {
		m.GateID = text
		return nil
	}

	return errors.Errorf("в тексте QR-кода не найден идентификатор проходной")
}

// Приведение значения из распакованного JSON к строке. Числа тоже считаются
// допустимым идентификатором, всё остальное - нет
func payloadValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Gate описание проходной, зарегистрированной в СКУД
type Gate struct {
	GateID      string `json:"gate_id" conform:"trim" validate:"required"`
	Name        string `json:"name" conform:"trim" validate:"required"`
	Location    string `json:"location" conform:"trim"`
	GateType    string `json:"gate_type" conform:"trim"`
	Description string `json:"description" conform:"trim"`
	IsActive    bool   `json:"is_active"`
}

// QR возвращает содержимое QR-кода для печати и наклейки на проходной.
// СКУД кодирует проходные JSON-объектом, его же понимает и Parse
func (m Gate) QR() string {
	payload, _ := json.Marshal(GatePayload{
		GateID:   m.GateID,
		Location: m.Location,
	})
	return string(payload)
}

// GateStats статистика проходов через одну проходную
type GateStats struct {
	GateID       string `json:"gate_id"`
	EntriesToday uint   `json:"entries_today"`
	ExitsToday   uint   `json:"exits_today"`
	TotalEntries uint   `json:"total_entries"`
	TotalExits   uint   `json:"total_exits"`
}
