package process

import (
	"errors"
	"syscall"
)

type fakeLauncher struct {
	next  int
	calls int
	err   error
}

func (f *fakeLauncher) Launch(spec *Spec, index int) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	return 1000 + f.next, nil
}

type sent struct {
	pid int
	sig syscall.Signal
}

type fakeSignaler struct {
	sent []sent
}

func (f *fakeSignaler) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.New("bad pid")
	}
	f.sent = append(f.sent, sent{pid, sig})
	return nil
}
