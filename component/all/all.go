// Package all registers every component. Import it for its side effects:
//
//	import _ "github.com/gogpu/rutabaga/component/all"
package all

import (
	_ "github.com/gogpu/rutabaga/component/crossdomain"
	_ "github.com/gogpu/rutabaga/component/gfxstream"
	_ "github.com/gogpu/rutabaga/component/twod"
	_ "github.com/gogpu/rutabaga/component/virgl"
)
