package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ModelsTestSuite struct {
	suite.Suite
}

func TestModelsTestSuite(t *testing.T) {
	suite.Run(t, new(ModelsTestSuite))
}

func (s *ModelsTestSuite) TestIsTerminal() {
	assert.False(s.T(), JobStatusPending.IsTerminal())
	assert.False(s.T(), JobStatusProcessing.IsTerminal())
	assert.True(s.T(), JobStatusCompleted.IsTerminal())
	assert.True(s.T(), JobStatusFailed.IsTerminal())
}

func (s *ModelsTestSuite) TestSkipBlocked() {
	no, yes := false, true
	assert.True(s.T(), JobConfig{}.SkipBlocked())
	assert.True(s.T(), JobConfig{SkipAlreadyBlocked: &yes}.SkipBlocked())
	assert.False(s.T(), JobConfig{SkipAlreadyBlocked: &no}.SkipBlocked())
}

func (s *ModelsTestSuite) TestJobConfigScan() {
	tests := []struct {
		name    string
		src     interface{}
		want    JobConfig
		wantErr bool
	}{
		{"nil", nil, JobConfig{}, false},
		{"empty", []byte{}, JobConfig{}, false},
		{"bytes", []byte(`{"target_subtype":"FRAUD"}`), JobConfig{TargetSubtype: "FRAUD"}, false},
		{"string", `{"target_subtype":"CUSTOMER_REQUEST"}`, JobConfig{TargetSubtype: "CUSTOMER_REQUEST"}, false},
		{"bad json", `{`, JobConfig{}, true},
		{"bad type", 12, JobConfig{}, true},
	}
	for _, tt := range tests {
		s.T().Run(tt.name, func(t *testing.T) {
			var c JobConfig
			err := c.Scan(tt.src)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, c)
		})
	}
}

func (s *ModelsTestSuite) TestJobConfigValue() {
	no := false
	v, err := JobConfig{TargetSubtype: "FRAUD", SkipAlreadyBlocked: &no}.Value()
	assert.NoError(s.T(), err)
	assert.JSONEq(s.T(), `{"target_subtype":"FRAUD","skip_already_blocked":false}`, string(v.([]byte)))
}
