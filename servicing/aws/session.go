package servicingaws

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
)

const defaultRegion = "us-east-1"

// Makes these easily mockable for testing
var newSession = session.NewSession

// NewSession returns a new AWS session. When roleArn is set the session
// assumes that role, and a non-empty endpoint (e.g. localstack) forces path
// style S3 addressing.
func NewSession(roleArn, endpoint string) (*session.Session, error) {
	config := aws.Config{
		Region: aws.String(defaultRegion),
	}

	if endpoint != "" {
		config.S3ForcePathStyle = aws.Bool(true)
		config.Endpoint = aws.String(endpoint)
	}

	if roleArn != "" {
		base, err := newSession(&aws.Config{Region: aws.String(defaultRegion)})
		if err != nil {
			return nil, err
		}
		config.Credentials = stscreds.NewCredentials(base, roleArn)
	}

	return newSession(&config)
}
