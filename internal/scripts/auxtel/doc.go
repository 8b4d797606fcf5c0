// Package auxtel holds the scripts of the auxiliary telescope: dome
// operations, ATAOS corrections, the calibration system power sequences
// and the ATCS group scripts.
//
// Scripts get their handles at construction. Those driving the ATCS take
// an ATCS interface, which *observatory.ATCS satisfies; scripts driving a
// single component take its *salobj.Remote.
package auxtel
