package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"notification-workers/internal/common/errors"
	"notification-workers/internal/models"
)

const uuidPattern = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`

// JobSchema is the JSON schema every incoming notification job must satisfy.
const JobSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["notificationId", "tenantId", "channel", "priority", "recipient", "content"],
  "properties": {
    "notificationId": {"type": "string", "pattern": "` + uuidPattern + `"},
    "tenantId": {"type": "string", "pattern": "` + uuidPattern + `"},
    "channel": {"type": "string", "minLength": 1},
    "priority": {"type": "string", "enum": ["LOW", "NORMAL", "HIGH", "URGENT"]},
    "recipient": {
      "type": "object",
      "properties": {
        "email": {"type": "string", "minLength": 3},
        "phone": {"type": "string", "minLength": 1},
        "webhookUrl": {"type": "string", "minLength": 1},
        "deviceToken": {"type": "string", "minLength": 1},
        "cc": {"type": "array", "items": {"type": "string"}},
        "bcc": {"type": "array", "items": {"type": "string"}},
        "replyTo": {"type": "string"}
      }
    },
    "content": {
      "type": "object",
      "required": ["body"],
      "properties": {
        "subject": {"type": "string"},
        "body": {"type": "string"},
        "htmlBody": {"type": "string"},
        "templateId": {"type": "string"},
        "templateData": {"type": "object"},
        "attachments": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["filename", "content"],
            "properties": {
              "filename": {"type": "string", "minLength": 1},
              "contentType": {"type": "string"},
              "content": {"type": "string"}
            }
          }
        }
      }
    },
    "metadata": {"type": "object"},
    "webhook": {
      "type": "object",
      "properties": {
        "method": {"type": "string"},
        "headers": {"type": "object", "additionalProperties": {"type": "string"}},
        "timeoutMs": {"type": "integer", "minimum": 0},
        "retryOnStatus": {"type": "array", "items": {"type": "integer", "minimum": 100, "maximum": 599}}
      }
    },
    "scheduledAt": {"type": "string", "format": "date-time"},
    "expiresAt": {"type": "string", "format": "date-time"},
    "retryCount": {"type": "integer", "minimum": 0},
    "maxRetries": {"type": "integer", "minimum": 0}
  },
  "allOf": [
    {"if": {"properties": {"channel": {"const": "EMAIL"}}}, "then": {"properties": {"recipient": {"required": ["email"]}}}},
    {"if": {"properties": {"channel": {"const": "SMS"}}}, "then": {"properties": {"recipient": {"required": ["phone"]}}}},
    {"if": {"properties": {"channel": {"const": "WEBHOOK"}}}, "then": {"properties": {"recipient": {"required": ["webhookUrl"]}}}},
    {"if": {"properties": {"channel": {"const": "PUSH"}}}, "then": {"properties": {"recipient": {"required": ["deviceToken"]}}}}
  ]
}`

var (
	jobSchemaOnce sync.Once
	jobSchema     *gojsonschema.Schema
	jobSchemaErr  error
)

func compiledJobSchema() (*gojsonschema.Schema, error) {
	jobSchemaOnce.Do(func() {
		jobSchema, jobSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(JobSchema))
	})
	return jobSchema, jobSchemaErr
}

// ParseJob validates raw against JobSchema, decodes it and applies defaults.
// Every failure is an INVALID_JOB_SCHEMA error.
func ParseJob(raw []byte) (*models.NotificationJob, error) {
	schema, err := compiledJobSchema()
	if err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("compile job schema: %w", err))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.NewJobSchemaError(fmt.Sprintf("malformed job: %v", err))
	}
	if !result.Valid() {
		return nil, errors.NewJobSchemaError(schemaErrorDetails(result.Errors()))
	}

	var job models.NotificationJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, errors.NewJobSchemaError(fmt.Sprintf("decode job: %v", err))
	}

	var probe struct {
		MaxRetries *int `json:"maxRetries"`
	}
	_ = json.Unmarshal(raw, &probe)
	if probe.MaxRetries == nil {
		job.MaxRetries = models.DefaultMaxRetries
	}

	if err := CheckJob(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CheckJob enforces the rules the schema cannot express.
func CheckJob(job *models.NotificationJob) error {
	if job.RetryCount < 0 || job.MaxRetries < 0 {
		return errors.NewJobSchemaError("retryCount and maxRetries must be >= 0")
	}
	if job.RetryCount > job.MaxRetries {
		return errors.NewJobSchemaError(fmt.Sprintf("retryCount %d exceeds maxRetries %d", job.RetryCount, job.MaxRetries))
	}
	if job.ScheduledAt != nil && job.ExpiresAt != nil && job.ExpiresAt.Before(*job.ScheduledAt) {
		return errors.NewJobSchemaError("expiresAt precedes scheduledAt")
	}
	return nil
}

func schemaErrorDetails(errs []gojsonschema.ResultError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return strings.Join(msgs, "; ")
}
