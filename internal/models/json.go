// internal/models/json.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// The flexible-schema metric payloads (competitor rankings, citation
// rankings, top questions, sentiment details) are typed structs in Go and
// only become JSON at the storage boundary.

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func jsonScan(src, dst interface{}) error {
	switch s := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(s, dst)
	case string:
		return json.Unmarshal([]byte(s), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}

// NullableScore wraps an optional structured sentiment rating stored as a
// nullable JSON column. Score is nil when no sentiment was computed.
type NullableScore struct {
	Score *SentimentScore
}

func (n NullableScore) Value() (driver.Value, error) {
	if n.Score == nil {
		return nil, nil
	}
	return jsonValue(n.Score)
}

func (n *NullableScore) Scan(src interface{}) error {
	if src == nil {
		n.Score = nil
		return nil
	}
	var score SentimentScore
	if err := jsonScan(src, &score); err != nil {
		return err
	}
	n.Score = &score
	return nil
}

func (n NullableScore) MarshalJSON() ([]byte, error) {
	if n.Score == nil {
		return []byte("null"), nil
	}
	return json.Marshal(n.Score)
}

func (n *NullableScore) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		n.Score = nil
		return nil
	}
	var score SentimentScore
	if err := json.Unmarshal(data, &score); err != nil {
		return err
	}
	n.Score = &score
	return nil
}

// CompetitorRankingList is a JSON-column slice of CompetitorRanking.
type CompetitorRankingList []CompetitorRanking

func (l CompetitorRankingList) Value() (driver.Value, error) {
	if l == nil {
		return jsonValue([]CompetitorRanking{})
	}
	return jsonValue([]CompetitorRanking(l))
}

func (l *CompetitorRankingList) Scan(src interface{}) error {
	return jsonScan(src, (*[]CompetitorRanking)(l))
}

// CitationRankingList is a JSON-column slice of CitationRanking.
type CitationRankingList []CitationRanking

func (l CitationRankingList) Value() (driver.Value, error) {
	if l == nil {
		return jsonValue([]CitationRanking{})
	}
	return jsonValue([]CitationRanking(l))
}

func (l *CitationRankingList) Scan(src interface{}) error {
	return jsonScan(src, (*[]CitationRanking)(l))
}

// TopQuestionList is a JSON-column slice of TopQuestion.
type TopQuestionList []TopQuestion

func (l TopQuestionList) Value() (driver.Value, error) {
	if l == nil {
		return jsonValue([]TopQuestion{})
	}
	return jsonValue([]TopQuestion(l))
}

func (l *TopQuestionList) Scan(src interface{}) error {
	return jsonScan(src, (*[]TopQuestion)(l))
}

// SentimentDetailList is a JSON-column slice of SentimentDetail.
type SentimentDetailList []SentimentDetail

func (l SentimentDetailList) Value() (driver.Value, error) {
	if l == nil {
		return jsonValue([]SentimentDetail{})
	}
	return jsonValue([]SentimentDetail(l))
}

func (l *SentimentDetailList) Scan(src interface{}) error {
	return jsonScan(src, (*[]SentimentDetail)(l))
}
