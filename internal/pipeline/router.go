package pipeline

import (
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// Group is the tokens of one platform, in their original relative order.
type Group struct {
	Platform dispatch.Platform
	Tokens   []string
	// Index holds each token's position in the request.
	Index []int
}

// IndexedOutcome is an outcome that already knows its slot in the result.
type IndexedOutcome struct {
	Index   int
	Outcome dispatch.DeliveryOutcome
}

// Route partitions tokens by platform. Groups are returned in order of first
// appearance. Tokens whose platform is not registered never reach an adapter;
// they come back as failed outcomes instead.
func Route(tokens []dispatch.DeviceToken, registered func(dispatch.Platform) bool) ([]Group, []IndexedOutcome) {
	var groups []Group
	var unsupported []IndexedOutcome
	slot := make(map[dispatch.Platform]int)

	for i, t := range tokens {
		if !registered(t.Platform) {
			unsupported = append(unsupported, IndexedOutcome{
				Index:   i,
				Outcome: dispatch.Failed(t.Token, t.Platform, dispatch.ErrUnsupportedPlatform),
			})
			continue
		}
		g, ok := slot[t.Platform]
		if !ok {
			g = len(groups)
			slot[t.Platform] = g
			groups = append(groups, Group{Platform: t.Platform})
		}
		groups[g].Tokens = append(groups[g].Tokens, t.Token)
		groups[g].Index = append(groups[g].Index, i)
	}
	return groups, unsupported
}
