package discovery

import "strings"

const (
	descriptorPrefix    = "iroh-"
	maxDescriptorLength = 15
)

// ServiceDescriptor scopes discovery to one application. It is at most 15
// characters of ASCII letters, digits and hyphens, which is also the limit
// DNS-SD places on service names.
type ServiceDescriptor string

// FormatServiceDescriptor derives the descriptor for an application service
// name. The prefix, filter and truncation must stay bit-exact for peers to
// find each other.
func FormatServiceDescriptor(serviceName string) ServiceDescriptor {
	var b strings.Builder
	for _, r := range descriptorPrefix + serviceName {
		if b.Len() == maxDescriptorLength {
			break
		}
		if isDescriptorRune(r) {
			b.WriteRune(r)
		}
	}
	return ServiceDescriptor(b.String())
}

func isDescriptorRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-'
}

// ServiceType returns the DNS-SD service type, e.g. "_iroh-chat._tcp".
func (d ServiceDescriptor) ServiceType() string {
	return "_" + string(d) + "._tcp"
}

// BrowseName returns the fully qualified name passed to an mDNS lookup.
func (d ServiceDescriptor) BrowseName() string {
	return d.ServiceType() + "." + DefaultDomain + "."
}

func (d ServiceDescriptor) String() string {
	return string(d)
}
