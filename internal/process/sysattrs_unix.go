//go:build !windows

package process

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// configureSysProcAttr places the child in its own process group and, when
// spec.User is set, drops to that user's uid and primary gid.
func configureSysProcAttr(cmd *exec.Cmd, spec *Spec) error {
	attrs := &syscall.SysProcAttr{Setpgid: true}
	if spec.User != "" {
		cred, err := lookupCredential(spec.User)
		if err != nil {
			return err
		}
		attrs.Credential = cred
	}
	cmd.SysProcAttr = attrs
	return nil
}

func lookupCredential(name string) (*syscall.Credential, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("user %s not found: %w", name, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("user %s: bad uid %q", name, u.Uid)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("user %s: bad gid %q", name, u.Gid)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid), NoSetGroups: true}, nil
}
