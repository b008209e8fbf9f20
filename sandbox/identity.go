// Copyright 2026 The Burrow Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "fmt"

// Synthesized system identity files. The sandbox gets a minimal passwd and
// group database naming only the system accounts and the sandbox user, so
// tools that resolve the current user see the sandbox identity rather
// than the host's.

const etcNsswitch = `passwd: files
group: files [SUCCESS=merge] systemd
shadow: files
gshadow: files
publickey: files
hosts: mymachines files myhostname dns
networks: files
protocols: files
services: files
ethers: files
rpc: files
netgroup: files
`

func etcPasswd(user string, uid, gid int, home, shell string) string {
	return fmt.Sprintf(`root:x:0:0::/root:/usr/bin/bash
bin:x:1:1::/:/usr/bin/nologin
daemon:x:2:2::/:/usr/bin/nologin
nobody:x:65534:65534:Kernel Overflow User:/:/usr/bin/nologin
%s:x:%d:%d::%s:%s
`, user, uid, gid, home, shell)
}

func etcGroup(user string, gid int) string {
	return fmt.Sprintf(`root:x:0:root
bin:x:1:daemon
nobody:x:65534:
daemon:x:2:bin
%s:x:%d:
`, user, gid)
}

func etcHosts(hostname string) string {
	return fmt.Sprintf(`127.0.0.1       localhost       localhost.localdomain
::1             localhost       localhost.localdomain
127.0.0.1       %[1]s      %[1]s.localdomain
::1             %[1]s      %[1]s.localdomain
127.0.0.1       %[1]s.local
`, hostname)
}
