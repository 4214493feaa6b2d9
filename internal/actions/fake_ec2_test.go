package actions

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// fakeEC2 serves canned per-region data. The region comes out of the
// option functions the handlers pass, the same way the real client
// resolves it.
type fakeEC2 struct {
	instances map[string][]types.Instance
	groups    map[string][]types.SecurityGroup
	regions   []string
	errs      map[string]error
	delays    map[string]time.Duration
}

func optRegion(optFns []func(*ec2.Options)) string {
	var opts ec2.Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts.Region
}

func (f *fakeEC2) wait(ctx context.Context, region string) error {
	if err := f.errs[region]; err != nil {
		return err
	}
	delay, ok := f.delays[region]
	if !ok {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	region := optRegion(optFns)
	if err := f.wait(ctx, region); err != nil {
		return nil, err
	}
	instances := f.instances[region]

	// Honor the instance.group-id filter the open-permission handler uses.
	for _, filter := range in.Filters {
		if aws.ToString(filter.Name) != "instance.group-id" {
			continue
		}
		wanted := make(map[string]bool, len(filter.Values))
		for _, v := range filter.Values {
			wanted[v] = true
		}
		var matched []types.Instance
		for _, inst := range instances {
			for _, sg := range inst.SecurityGroups {
				if wanted[aws.ToString(sg.GroupId)] {
					matched = append(matched, inst)
					break
				}
			}
		}
		instances = matched
	}

	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{Instances: instances}},
	}, nil
}

func (f *fakeEC2) DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	region := optRegion(optFns)
	if err := f.wait(ctx, region); err != nil {
		return nil, err
	}
	// The handler filters on ip-permission.cidr=0.0.0.0/0; mimic the
	// server-side filter so only matching groups come back.
	var matched []types.SecurityGroup
	for _, sg := range f.groups[region] {
		if hasOpenRange(sg) {
			matched = append(matched, sg)
		}
	}
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: matched}, nil
}

func hasOpenRange(sg types.SecurityGroup) bool {
	for _, p := range sg.IpPermissions {
		for _, r := range p.IpRanges {
			if aws.ToString(r.CidrIp) == openCIDR {
				return true
			}
		}
	}
	return false
}

func (f *fakeEC2) DescribeRegions(ctx context.Context, in *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	out := &ec2.DescribeRegionsOutput{}
	for _, r := range f.regions {
		out.Regions = append(out.Regions, types.Region{RegionName: aws.String(r)})
	}
	return out, nil
}

func runningInstance(id, name string) types.Instance {
	return instanceFixture(id, name, types.InstanceStateNameRunning, nil)
}

func instanceFixture(id, name string, state types.InstanceStateName, tags map[string]string) types.Instance {
	inst := types.Instance{
		InstanceId: aws.String(id),
		State:      &types.InstanceState{Name: state},
	}
	if name != "" {
		inst.Tags = append(inst.Tags, types.Tag{Key: aws.String("Name"), Value: aws.String(name)})
	}
	for k, v := range tags {
		inst.Tags = append(inst.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return inst
}
