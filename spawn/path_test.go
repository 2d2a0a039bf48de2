package spawn

import "testing"

func TestResolvePath(t *testing.T) {
	cases := []struct {
		name string
		path string
		env  string
		want string
	}{
		{name: "bare name uses PATH", path: "foo", env: "/bin", want: "/bin/foo"},
		{name: "PATH with trailing separator", path: "foo", env: "/bin/", want: "/bin/foo"},
		{name: "unset PATH defaults to cwd", path: "foo", env: "", want: "./foo"},
		{name: "relative path verbatim", path: "./foo", env: "/bin", want: "./foo"},
		{name: "absolute path verbatim", path: "/bin/foo", env: "/sbin", want: "/bin/foo"},
		{name: "scheme delimiter verbatim", path: "file:foo", env: "/bin", want: "file:foo"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PATH", tc.env)
			if got := ResolvePath(tc.path); got != tc.want {
				t.Fatalf("ResolvePath(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"HOME=/root", "PATH=/bin", "TERM=xterm"}

	merged := mergeEnv(base, map[string]string{"PATH": "/sbin", "EXTRA": "1"})

	got := make(map[string]string, len(merged))
	for _, kv := range merged {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				got[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	want := map[string]string{"HOME": "/root", "PATH": "/sbin", "TERM": "xterm", "EXTRA": "1"}
	if len(got) != len(want) {
		t.Fatalf("merged env has %d entries, want %d: %v", len(got), len(want), merged)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("merged env %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestMergeEnvNoOverrides(t *testing.T) {
	base := []string{"HOME=/root"}
	if got := mergeEnv(base, nil); len(got) != 1 || got[0] != "HOME=/root" {
		t.Fatalf("mergeEnv without overrides altered the environment: %v", got)
	}
}

func TestCommandString(t *testing.T) {
	cmd := New("/bin/echo").Arg("hello").Env("KEY", "value")
	got := cmd.String()
	want := `"/bin/echo" "hello" KEY="value"`
	if got != want {
		t.Fatalf("Command.String() = %s, want %s", got, want)
	}
}
