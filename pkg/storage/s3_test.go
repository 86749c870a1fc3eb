package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSettlementKey(t *testing.T) {
	ended := time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("X", -5*3600))
	assert.Equal(t, "settlements/2026-03-10/abc.csv", SettlementKey("abc", ended))
}

func TestObjectURL(t *testing.T) {
	s := &S3{cfg: S3Config{Region: "eu-west-1"}}
	assert.Equal(t, "https://reports.s3.eu-west-1.amazonaws.com/k.csv", s.ObjectURL("reports", "k.csv"))

	s = &S3{cfg: S3Config{Region: "us-east-1", Endpoint: "http://localhost:9000"}}
	assert.Equal(t, "http://localhost:9000/reports/k.csv", s.ObjectURL("reports", "k.csv"))
}

func TestPresignExpireDefault(t *testing.T) {
	assert.Equal(t, 15*time.Minute, (&S3{}).PresignExpire())
	assert.Equal(t, 2*time.Minute, (&S3{cfg: S3Config{PresignExpireMinutes: 2}}).PresignExpire())
}
