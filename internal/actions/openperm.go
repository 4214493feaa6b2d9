package actions

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const openCIDR = "0.0.0.0/0"

// OpenPermissionHandler finds instances whose inbound rules allow
// unrestricted source access (0.0.0.0/0), per region.
type OpenPermissionHandler struct {
	api   EC2API
	limit int
}

func NewOpenPermissionHandler(api EC2API, limit int) *OpenPermissionHandler {
	return &OpenPermissionHandler{api: api, limit: limit}
}

func (h *OpenPermissionHandler) Name() Name { return ActionOpenPermission }

func (h *OpenPermissionHandler) Query(ctx context.Context, regions []string) (any, error) {
	entries, err := fanOut(ctx, regions, h.limit,
		func(ctx context.Context, region string) (ExposedEntry, error) {
			return h.scanRegion(ctx, region)
		},
		func(region string) ExposedEntry {
			return ExposedEntry{Region: region, Instances: []ExposedInstanceInfo{}, Failed: true}
		},
	)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (h *OpenPermissionHandler) scanRegion(ctx context.Context, region string) (ExposedEntry, error) {
	entry := ExposedEntry{Region: region, Instances: []ExposedInstanceInfo{}}

	openGroups, err := h.openSecurityGroups(ctx, region)
	if err != nil {
		return entry, err
	}
	if len(openGroups) == 0 {
		return entry, nil
	}

	groupIDs := make([]string, 0, len(openGroups))
	for id := range openGroups {
		groupIDs = append(groupIDs, id)
	}

	var token *string
	for {
		out, err := h.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			NextToken: token,
			Filters: []types.Filter{{
				Name:   aws.String("instance.group-id"),
				Values: groupIDs,
			}},
		}, withRegion(region))
		if err != nil {
			return entry, err
		}
		for _, r := range out.Reservations {
			for _, inst := range r.Instances {
				exposed := ExposedInstanceInfo{InstanceInfo: instanceInfo(inst)}
				for _, sg := range inst.SecurityGroups {
					exposed.Permissions = append(exposed.Permissions, openGroups[aws.ToString(sg.GroupId)]...)
				}
				if len(exposed.Permissions) > 0 {
					entry.Instances = append(entry.Instances, exposed)
				}
			}
		}
		token = out.NextToken
		if token == nil {
			return entry, nil
		}
	}
}

// openSecurityGroups maps security group ID to the wide-open inbound
// rules it carries, for groups with at least one 0.0.0.0/0 source.
func (h *OpenPermissionHandler) openSecurityGroups(ctx context.Context, region string) (map[string][]PermissionInfo, error) {
	groups := make(map[string][]PermissionInfo)

	var token *string
	for {
		out, err := h.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			NextToken: token,
			Filters: []types.Filter{{
				Name:   aws.String("ip-permission.cidr"),
				Values: []string{openCIDR},
			}},
		}, withRegion(region))
		if err != nil {
			return nil, err
		}
		for _, sg := range out.SecurityGroups {
			var perms []PermissionInfo
			for _, p := range sg.IpPermissions {
				for _, ipRange := range p.IpRanges {
					if aws.ToString(ipRange.CidrIp) != openCIDR {
						continue
					}
					perms = append(perms, PermissionInfo{
						IPProtocol: aws.ToString(p.IpProtocol),
						FromPort:   aws.ToInt32(p.FromPort),
						ToPort:     aws.ToInt32(p.ToPort),
						AllowFrom:  aws.ToString(ipRange.CidrIp),
					})
				}
			}
			groups[aws.ToString(sg.GroupId)] = perms
		}
		token = out.NextToken
		if token == nil {
			return groups, nil
		}
	}
}
