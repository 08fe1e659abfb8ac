package platform

import "strings"

// Capability is a bit set of adapter features.
type Capability uint8

const (
	CapBio Capability = 1 << iota
	CapUserName
	CapProfilePic
	CapBanner
	CapPost
)

// CapProfile is every profile-related capability.
const CapProfile = CapBio | CapUserName | CapProfilePic | CapBanner

var capNames = []struct {
	c    Capability
	name string
}{
	{CapBio, "bio"},
	{CapUserName, "username"},
	{CapProfilePic, "profile_pic"},
	{CapBanner, "banner"},
	{CapPost, "post"},
}

// Has reports whether every bit of want is set in c.
func (c Capability) Has(want Capability) bool { return c&want == want && want != 0 }

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, cn := range capNames {
		if c&cn.c != 0 {
			parts = append(parts, cn.name)
		}
	}
	return strings.Join(parts, "|")
}
