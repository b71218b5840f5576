package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistoryKey(t *testing.T) {
	at := time.Unix(1700000000, 0)
	assert.Equal(t, "session-history/S1/1700000000.json", HistoryKey("S1", at))
	assert.Equal(t, "session-history/evil/1700000000.json", HistoryKey("../../evil", at))
}

func TestObjectURL(t *testing.T) {
	s := &S3{cfg: S3Config{Region: "eu-west-1"}}
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/k/x.json", s.ObjectURL("b", "k/x.json"))
}
