package actions

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// CountHandler answers "how many instances" questions: total and
// running instance counts per region.
type CountHandler struct {
	api   EC2API
	limit int
}

// NewCountHandler creates the count handler. limit bounds the per-region
// fan-out concurrency.
func NewCountHandler(api EC2API, limit int) *CountHandler {
	return &CountHandler{api: api, limit: limit}
}

func (h *CountHandler) Name() Name { return ActionCount }

// Query counts instances in every region concurrently. Entries come back
// in the order of the regions argument.
func (h *CountHandler) Query(ctx context.Context, regions []string) (any, error) {
	entries, err := fanOut(ctx, regions, h.limit,
		func(ctx context.Context, region string) (CountEntry, error) {
			return h.countRegion(ctx, region)
		},
		func(region string) CountEntry {
			return CountEntry{Region: region, Failed: true}
		},
	)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (h *CountHandler) countRegion(ctx context.Context, region string) (CountEntry, error) {
	entry := CountEntry{Region: region}

	var token *string
	for {
		out, err := h.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: token}, withRegion(region))
		if err != nil {
			return entry, err
		}
		for _, r := range out.Reservations {
			entry.TotalInstances += len(r.Instances)
			for _, inst := range r.Instances {
				if inst.State != nil && inst.State.Name == types.InstanceStateNameRunning {
					entry.RunningInstances++
				}
			}
		}
		token = out.NextToken
		if token == nil {
			return entry, nil
		}
	}
}
