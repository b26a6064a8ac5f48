package netguard

import (
	"context"
	"testing"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return f[host], nil
}

func TestAssertPublicHostname_Literals(t *testing.T) {
	cases := []struct {
		host    string
		wantErr bool
	}{
		{"localhost", true},
		{"foo.localhost", true},
		{"bar.internal", true},
		{"metadata.google.internal", true},
		{"127.0.0.1", true},
		{"10.0.0.5", true},
		{"169.254.169.254", true},
		{"192.168.1.1", true},
		{"100.64.0.1", true},
		{"::1", true},
		{"fe80::1", true},
		{"[::1]", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
	}

	for _, tc := range cases {
		err := assertPublicHostname(context.Background(), tc.host, fakeResolver{})
		if (err != nil) != tc.wantErr {
			t.Errorf("host %q: err=%v, wantErr=%v", tc.host, err, tc.wantErr)
		}
	}
}

func TestAssertPublicHostname_DNSResolution(t *testing.T) {
	resolver := fakeResolver{
		"evil.example.com": {"169.254.169.254"},
		"good.example.com": {"93.184.216.34"},
	}

	if err := assertPublicHostname(context.Background(), "evil.example.com", resolver); err == nil {
		t.Error("expected error for hostname resolving to link-local address")
	}
	if err := assertPublicHostname(context.Background(), "good.example.com", resolver); err != nil {
		t.Errorf("unexpected error for public hostname: %v", err)
	}
}
