// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package backend provides the platform readiness backends: epoll (Linux),
// kqueue (Darwin/FreeBSD/DragonFly), poll(2) tables (AIX, Solaris/illumos,
// NetBSD, OpenBSD) and IOCP (Windows). Exactly one variant is compiled per
// target; all of them normalize to the oneshot-then-rearm interest model.
package backend
