package discover

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoardAddr(t *testing.T) {
	t.Parallel()

	b := Board{IP: net.IPv4(192, 168, 178, 222), Port: 23, Host: "fugu-a1b2.local."}
	assert.Equal(t, "192.168.178.222:23", b.Addr())
}
