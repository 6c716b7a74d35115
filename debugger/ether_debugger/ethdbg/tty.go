package ethdbg

import (
	"os"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// openDiagnosticTTY 创建一个伪终端，从端交给子进程作为标准错误
// 主端设置为raw模式，避免终端对输出做换行转换
func openDiagnosticTTY() (ptm *os.File, pts *os.File, err error) {
	ptm, pts, err = pty.Open()
	if err != nil {
		return nil, nil, err
	}
	if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
		_ = ptm.Close()
		_ = pts.Close()
		return nil, nil, err
	}
	return ptm, pts, nil
}
