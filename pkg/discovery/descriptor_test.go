package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatServiceDescriptor(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected ServiceDescriptor
	}{
		{"truncates to fifteen characters", "example-service", "iroh-example-se"},
		{"drops disallowed characters", "a!@#b", "iroh-ab"},
		{"empty name keeps the prefix", "", "iroh-"},
		{"non ascii letters are dropped", "café-ü", "iroh-caf-"},
		{"spaces and dots are dropped", "my chat.app", "iroh-mychatapp"},
		{"filter runs before truncation", "!!!!!!!!!!abcdefghijkl", "iroh-abcdefghij"},
		{"uppercase and digits survive", "ABC123", "iroh-ABC123"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := FormatServiceDescriptor(tc.input)
			assert.Equal(t, tc.expected, got)
			assert.LessOrEqual(t, len(got), maxDescriptorLength)
		})
	}
}

func TestFormatServiceDescriptor_IsPure(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Equal(t, FormatServiceDescriptor("example-service"), FormatServiceDescriptor("example-service"))
	}
}

func TestServiceDescriptor_ServiceType(t *testing.T) {
	d := FormatServiceDescriptor("chat")
	assert.Equal(t, "_iroh-chat._tcp", d.ServiceType())
	assert.Equal(t, "_iroh-chat._tcp.local.", d.BrowseName())
	assert.Equal(t, "iroh-chat", d.String())
}
