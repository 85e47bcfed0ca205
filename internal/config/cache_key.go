package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptStartKey returns the cache key for an attempt's authoritative start time
func (r *CacheKeyStruct) AttemptStartKey(assessmentID string, studentID int) string {
	return fmt.Sprintf("student:%d:assessment:%s:attempt_start", studentID, assessmentID)
}

// AttemptDraftKey returns the cache key for a student's draft answers
func (r *CacheKeyStruct) AttemptDraftKey(assessmentID string, studentID int) string {
	return fmt.Sprintf("student:%d:assessment:%s:draft", studentID, assessmentID)
}

// AttemptOrderKey returns the cache key for a student's realized question order
func (r *CacheKeyStruct) AttemptOrderKey(assessmentID string, studentID int) string {
	return fmt.Sprintf("student:%d:assessment:%s:question_order", studentID, assessmentID)
}

// AssessmentPayloadKey returns the cache key for an assessment's student payload
func (r *CacheKeyStruct) AssessmentPayloadKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:payload", assessmentID)
}

// AssessmentDurationKey returns the cache key for an assessment's duration
func (r *CacheKeyStruct) AssessmentDurationKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:duration", assessmentID)
}

// AssessmentMaxViolationsKey returns the cache key for an assessment's violation policy
func (r *CacheKeyStruct) AssessmentMaxViolationsKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:max_violations", assessmentID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel for proctor monitoring
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
