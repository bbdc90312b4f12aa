/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

//go:build linux

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollPoller is the Linux Poller backed by epoll_create1/epoll_ctl/
// epoll_wait. Level-triggered (no EPOLLET) so a connection that only
// partially drains its readable bytes is notified again next Wait,
// matching the "advance until it would block" loop semantics spec.md
// SS4.7 describes for run().
type epollPoller struct {
	epfd int
}

// New creates a Poller backed by a fresh epoll instance.
func New() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: epoll_create1")
	}
	return &epollPoller{epfd: fd}, nil
}

func interestMask(readable, writable bool) uint32 {
	var events uint32
	if readable {
		events |= unix.EPOLLIN
	}
	if writable {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epollPoller) Add(fd int, readable, writable bool) error {
	ev := unix.EpollEvent{Events: interestMask(readable, writable), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if errors.Is(err, unix.EEXIST) {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err != nil {
		return errors.Wrapf(err, "reactor: epoll_ctl fd=%d", fd)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return errors.Wrapf(err, "reactor: epoll_ctl del fd=%d", fd)
	}
	return nil
}

func (p *epollPoller) Wait(dst []Event, timeoutMillis int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 128)
	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, raw, timeoutMillis)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return dst, errors.Wrap(err, "reactor: epoll_wait")
	}
	for i := 0; i < n; i++ {
		e := raw[i]
		dst = append(dst, Event{
			FD:       int(e.Fd),
			Readable: e.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Error:    e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return dst, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
