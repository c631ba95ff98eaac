// Package engine defines the molecular dynamics engine consumed by the
// stage runner and ships a reference CPU implementation.
//
// Units throughout are Angstrom, picosecond, amu and kcal/mol. Forces are
// kcal/mol/A; velocities A/ps.
//
//	ctx, err := engine.NewReference().NewContext(pot, integ, engine.CPU(4))
//	ctx.SetPositions(pos)
//	ctx.SetVelocitiesToTemperature(310, seed)
//	err = ctx.Step(5000)
//
// Nonbonded kernels run on a Backend chosen from the Device. The
// accelerator backend is a stub that falls back to the CPU kernels unless
// the binary was built with accelerator support.
package engine
