// Package temperature holds temperature units and sensor transfer functions.
package temperature

// Celsius is a temperature in C
type Celsius float64

// AD595 converts the output of an AD595 thermocouple amplifier to a temperature.
// The nominal transfer function is 10 mV/C; below -12 C the amplifier departs from
// it and a cubic correction is applied.
func AD595(volts float64) Celsius {
	t := 100 * volts
	if t < -12 {
		t = 2.6843 + 1.2709*t + 0.0042867*t*t + 3.4944e-05*t*t*t
	}
	return Celsius(t)
}
