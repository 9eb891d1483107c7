package book

// levelTree is a red-black tree of price levels keyed by price. Bid sides
// walk it descending, ask sides ascending; the tree itself is direction
// agnostic.

type lcolor bool

const (
	lred   lcolor = false
	lblack lcolor = true
)

type lnode struct {
	px     int64
	level  *PriceLevel
	color  lcolor
	left   *lnode
	right  *lnode
	parent *lnode
}

type levelTree struct {
	root *lnode
	sent *lnode // black sentinel leaf
	n    int
}

func newLevelTree() *levelTree {
	s := &lnode{color: lblack}
	return &levelTree{root: s, sent: s}
}

func (t *levelTree) len() int { return t.n }

func (t *levelTree) find(px int64) *PriceLevel {
	x := t.root
	for x != t.sent {
		switch {
		case px < x.px:
			x = x.left
		case px > x.px:
			x = x.right
		default:
			return x.level
		}
	}
	return nil
}

// insert returns the level at px, creating it when absent.
func (t *levelTree) insert(px int64, side Side) (lvl *PriceLevel, created bool) {
	p := t.sent
	x := t.root
	for x != t.sent {
		p = x
		switch {
		case px < x.px:
			x = x.left
		case px > x.px:
			x = x.right
		default:
			return x.level, false
		}
	}
	lvl = &PriceLevel{Side: side, Price: px}
	z := &lnode{px: px, level: lvl, color: lred, left: t.sent, right: t.sent, parent: p}
	switch {
	case p == t.sent:
		t.root = z
	case px < p.px:
		p.left = z
	default:
		p.right = z
	}
	t.insertFixup(z)
	t.n++
	return lvl, true
}

func (t *levelTree) remove(px int64) bool {
	z := t.node(px)
	if z == t.sent {
		return false
	}
	t.removeNode(z)
	t.n--
	return true
}

func (t *levelTree) min() *PriceLevel {
	n := t.first(t.root)
	if n == t.sent {
		return nil
	}
	return n.level
}

func (t *levelTree) max() *PriceLevel {
	n := t.last(t.root)
	if n == t.sent {
		return nil
	}
	return n.level
}

// ascend walks levels in ascending price order until fn returns false.
func (t *levelTree) ascend(fn func(*PriceLevel) bool) {
	for n := t.first(t.root); n != t.sent; n = t.succ(n) {
		if !fn(n.level) {
			return
		}
	}
}

// descend walks levels in descending price order until fn returns false.
func (t *levelTree) descend(fn func(*PriceLevel) bool) {
	for n := t.last(t.root); n != t.sent; n = t.pred(n) {
		if !fn(n.level) {
			return
		}
	}
}

// ascendRange walks levels with lo <= px <= hi ascending.
func (t *levelTree) ascendRange(lo, hi int64, fn func(*PriceLevel) bool) {
	n := t.lowerBound(lo)
	for ; n != t.sent && n.px <= hi; n = t.succ(n) {
		if !fn(n.level) {
			return
		}
	}
}

// descendRange walks levels with lo <= px <= hi descending.
func (t *levelTree) descendRange(lo, hi int64, fn func(*PriceLevel) bool) {
	n := t.upperBound(hi)
	for ; n != t.sent && n.px >= lo; n = t.pred(n) {
		if !fn(n.level) {
			return
		}
	}
}

func (t *levelTree) clear() {
	t.root = t.sent
	t.n = 0
}

func (t *levelTree) node(px int64) *lnode {
	x := t.root
	for x != t.sent {
		switch {
		case px < x.px:
			x = x.left
		case px > x.px:
			x = x.right
		default:
			return x
		}
	}
	return t.sent
}

// lowerBound returns the first node with px >= lo.
func (t *levelTree) lowerBound(lo int64) *lnode {
	x, best := t.root, t.sent
	for x != t.sent {
		if x.px >= lo {
			best = x
			x = x.left
		} else {
			x = x.right
		}
	}
	return best
}

// upperBound returns the last node with px <= hi.
func (t *levelTree) upperBound(hi int64) *lnode {
	x, best := t.root, t.sent
	for x != t.sent {
		if x.px <= hi {
			best = x
			x = x.right
		} else {
			x = x.left
		}
	}
	return best
}

func (t *levelTree) first(n *lnode) *lnode {
	if n == t.sent {
		return t.sent
	}
	for n.left != t.sent {
		n = n.left
	}
	return n
}

func (t *levelTree) last(n *lnode) *lnode {
	if n == t.sent {
		return t.sent
	}
	for n.right != t.sent {
		n = n.right
	}
	return n
}

func (t *levelTree) succ(n *lnode) *lnode {
	if n.right != t.sent {
		return t.first(n.right)
	}
	p := n.parent
	for p != t.sent && n == p.right {
		n, p = p, p.parent
	}
	return p
}

func (t *levelTree) pred(n *lnode) *lnode {
	if n.left != t.sent {
		return t.last(n.left)
	}
	p := n.parent
	for p != t.sent && n == p.left {
		n, p = p, p.parent
	}
	return p
}

func (t *levelTree) rotateLeft(x *lnode) {
	y := x.right
	x.right = y.left
	if y.left != t.sent {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.sent:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *levelTree) rotateRight(y *lnode) {
	x := y.left
	y.left = x.right
	if x.right != t.sent {
		x.right.parent = y
	}
	x.parent = y.parent
	switch {
	case y.parent == t.sent:
		t.root = x
	case y == y.parent.right:
		y.parent.right = x
	default:
		y.parent.left = x
	}
	x.right = y
	y.parent = x
}

func (t *levelTree) insertFixup(z *lnode) {
	for z.parent.color == lred {
		gp := z.parent.parent
		if z.parent == gp.left {
			u := gp.right
			if u.color == lred {
				z.parent.color = lblack
				u.color = lblack
				gp.color = lred
				z = gp
				continue
			}
			if z == z.parent.right {
				z = z.parent
				t.rotateLeft(z)
			}
			z.parent.color = lblack
			z.parent.parent.color = lred
			t.rotateRight(z.parent.parent)
		} else {
			u := gp.left
			if u.color == lred {
				z.parent.color = lblack
				u.color = lblack
				gp.color = lred
				z = gp
				continue
			}
			if z == z.parent.left {
				z = z.parent
				t.rotateRight(z)
			}
			z.parent.color = lblack
			z.parent.parent.color = lred
			t.rotateLeft(z.parent.parent)
		}
	}
	t.root.color = lblack
}

func (t *levelTree) transplant(u, v *lnode) {
	switch {
	case u.parent == t.sent:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *levelTree) removeNode(z *lnode) {
	y := z
	wasBlack := y.color == lblack
	var x *lnode

	switch {
	case z.left == t.sent:
		x = z.right
		t.transplant(z, z.right)
	case z.right == t.sent:
		x = z.left
		t.transplant(z, z.left)
	default:
		y = t.first(z.right)
		wasBlack = y.color == lblack
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if wasBlack {
		t.removeFixup(x)
	}
}

func (t *levelTree) removeFixup(x *lnode) {
	for x != t.root && x.color == lblack {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == lred {
				w.color = lblack
				x.parent.color = lred
				t.rotateLeft(x.parent)
				w = x.parent.right
			}
			if w.left.color == lblack && w.right.color == lblack {
				w.color = lred
				x = x.parent
				continue
			}
			if w.right.color == lblack {
				w.left.color = lblack
				w.color = lred
				t.rotateRight(w)
				w = x.parent.right
			}
			w.color = x.parent.color
			x.parent.color = lblack
			w.right.color = lblack
			t.rotateLeft(x.parent)
			x = t.root
		} else {
			w := x.parent.left
			if w.color == lred {
				w.color = lblack
				x.parent.color = lred
				t.rotateRight(x.parent)
				w = x.parent.left
			}
			if w.right.color == lblack && w.left.color == lblack {
				w.color = lred
				x = x.parent
				continue
			}
			if w.left.color == lblack {
				w.right.color = lblack
				w.color = lred
				t.rotateLeft(w)
				w = x.parent.left
			}
			w.color = x.parent.color
			x.parent.color = lblack
			w.left.color = lblack
			t.rotateRight(x.parent)
			x = t.root
		}
	}
	x.color = lblack
}
