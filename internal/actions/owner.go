package actions

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// WithoutOwnerHandler finds instances missing the designated ownership
// tag, per region.
type WithoutOwnerHandler struct {
	api      EC2API
	ownerTag string
	limit    int
}

// NewWithoutOwnerHandler creates the handler. ownerTag defaults to
// "Owner" when empty; tag key comparison is case-insensitive.
func NewWithoutOwnerHandler(api EC2API, ownerTag string, limit int) *WithoutOwnerHandler {
	if ownerTag == "" {
		ownerTag = "Owner"
	}
	return &WithoutOwnerHandler{api: api, ownerTag: ownerTag, limit: limit}
}

func (h *WithoutOwnerHandler) Name() Name { return ActionWithoutOwner }

func (h *WithoutOwnerHandler) Query(ctx context.Context, regions []string) (any, error) {
	entries, err := fanOut(ctx, regions, h.limit,
		func(ctx context.Context, region string) (UntaggedEntry, error) {
			return h.scanRegion(ctx, region)
		},
		func(region string) UntaggedEntry {
			return UntaggedEntry{Region: region, Instances: []InstanceInfo{}, Failed: true}
		},
	)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (h *WithoutOwnerHandler) scanRegion(ctx context.Context, region string) (UntaggedEntry, error) {
	entry := UntaggedEntry{Region: region, Instances: []InstanceInfo{}}

	var token *string
	for {
		out, err := h.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: token}, withRegion(region))
		if err != nil {
			return entry, err
		}
		for _, r := range out.Reservations {
			for _, inst := range r.Instances {
				if tagValue(inst.Tags, h.ownerTag) != "" {
					continue
				}
				entry.Instances = append(entry.Instances, instanceInfo(inst))
			}
		}
		token = out.NextToken
		if token == nil {
			return entry, nil
		}
	}
}

func instanceInfo(inst types.Instance) InstanceInfo {
	info := InstanceInfo{
		InstanceID:   aws.ToString(inst.InstanceId),
		InstanceName: tagValue(inst.Tags, "Name"),
	}
	if inst.State != nil {
		info.State = string(inst.State.Name)
	}
	return info
}

// tagValue returns the value of the first tag whose key matches
// case-insensitively, or "".
func tagValue(tags []types.Tag, key string) string {
	for _, t := range tags {
		if t.Key != nil && t.Value != nil && strings.EqualFold(*t.Key, key) {
			return *t.Value
		}
	}
	return ""
}
