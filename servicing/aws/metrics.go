package servicingaws

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
)

type Dimension struct {
	Name  string
	Value string
}

// Sampler publishes single metric samples to CloudWatch.
type Sampler struct {
	Namespace string
	Unit      string
	Service   cloudwatchiface.CloudWatchAPI
}

func NewSampler(sess *session.Session, namespace, unit string) *Sampler {
	return &Sampler{Namespace: namespace, Unit: unit, Service: cloudwatch.New(sess)}
}

func (s *Sampler) PutSample(name string, value float64, dimensions []Dimension) error {
	d := make([]*cloudwatch.Dimension, 0, len(dimensions))
	for _, v := range dimensions {
		d = append(d, &cloudwatch.Dimension{
			Name:  aws.String(v.Name),
			Value: aws.String(v.Value),
		})
	}

	_, err := s.Service.PutMetricData(&cloudwatch.PutMetricDataInput{
		Namespace: aws.String(s.Namespace),
		MetricData: []*cloudwatch.MetricDatum{{
			Dimensions: d,
			MetricName: aws.String(name),
			Unit:       aws.String(s.Unit),
			Value:      aws.Float64(value),
		}},
	})
	return err
}
