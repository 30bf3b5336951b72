// Package overlay marks the dies of a wafer map that sit on substrate
// defects.
//
// Die (x, y) occupies the rectangle
//
//	left   = x*grid.Width + offset.X
//	right  = left + grid.Width
//	top    = -y*grid.Height + offset.Y
//	bottom = top + grid.Height
//
// Defects are anchored at their bottom-left corner. Their width and height
// arrive in micrometers; Map adds the product's size offset, clamps at zero
// and divides by 1000 before testing overlap. Rectangles that only share an
// edge do not overlap.
//
// A die overlapping any defect becomes DefectBin, except dies whose bin is
// S, * or 257: those mark alignment and fiducial sites and keep their bin.
package overlay
