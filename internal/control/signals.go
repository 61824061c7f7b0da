package control

import "syscall"

var sigTerm = syscall.SIGTERM
