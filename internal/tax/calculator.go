// Package tax computes the statutory withholdings deducted from a nota
// fiscal's gross value. The calculator is a pure function of its inputs and
// holds no state.
package tax

import (
	"github.com/shopspring/decimal"

	"github.com/rezendeng/faturamento/internal/models"
)

var (
	half = decimal.NewFromFloat(0.50)

	rateINSSFull      = decimal.NewFromFloat(0.11)   // dielectric test: 11% of gross
	rateINSSHalfBase  = decimal.NewFromFloat(0.055)  // construction: 11% of half the gross
	rateISS           = decimal.NewFromFloat(0.05)   // municipal service tax
	rateUtilityConstr = decimal.NewFromFloat(0.05)   // utility contract retention, construction
	rateUtilityTransp = decimal.NewFromFloat(0.03)   // utility contract retention, freight
	ratePISCofinsCSLL = decimal.NewFromFloat(0.0465) // combined federal withholding
)

// Breakdown holds the withholdings computed for one invoice. Amounts are kept
// unrounded; only NetAmount is rounded to 2 decimal places, at the boundary.
type Breakdown struct {
	SocialSecurity     decimal.Decimal `json:"inss"`
	SocialSecurityRate decimal.Decimal `json:"aliquota_inss"`
	ServiceTax         decimal.Decimal `json:"iss"`
	ServiceTaxRate     decimal.Decimal `json:"aliquota_iss"`
	UtilityWithholding decimal.Decimal `json:"retencao_equatorial"`
	PISCofinsCSLL      decimal.Decimal `json:"pis_cofins_csll"`
	NetAmount          decimal.Decimal `json:"valor_nominal"`

	// Known is false when the service type is not one of the four billable
	// types. Such invoices get zero withholdings; the flag makes the
	// fallthrough observable instead of silently trusting zeros.
	Known bool `json:"tipo_reconhecido"`
}

// Compute calculates every withholding for a service type and gross amount.
//
//	CONSTRUCAO:        INSS 11% over half the gross, ISS 5%, utility 5%
//	ENSAIO DIELETRICO: INSS 11% over the full gross, ISS 5%, no utility
//	TRANSPORTE:        no INSS, ISS 5%, utility 3%
//	TRANSPORTE_CTE:    no INSS, no ISS, utility 3%
//
// PIS/COFINS/CSLL is 4.65% of gross when withheld, regardless of type.
func Compute(serviceType models.ServiceType, gross decimal.Decimal, pisCofinsWithheld bool) Breakdown {
	b := Breakdown{Known: serviceType.Known()}

	switch serviceType {
	case models.ServiceConstruction:
		b.SocialSecurity = gross.Mul(half).Mul(rateINSSFull)
		b.SocialSecurityRate = rateINSSHalfBase
		b.ServiceTax = gross.Mul(rateISS)
		b.ServiceTaxRate = rateISS
		b.UtilityWithholding = gross.Mul(rateUtilityConstr)
	case models.ServiceDielectricTest:
		b.SocialSecurity = gross.Mul(rateINSSFull)
		b.SocialSecurityRate = rateINSSFull
		b.ServiceTax = gross.Mul(rateISS)
		b.ServiceTaxRate = rateISS
	case models.ServiceFreight:
		b.ServiceTax = gross.Mul(rateISS)
		b.ServiceTaxRate = rateISS
		b.UtilityWithholding = gross.Mul(rateUtilityTransp)
	case models.ServiceFreightCTE:
		b.UtilityWithholding = gross.Mul(rateUtilityTransp)
	}

	if pisCofinsWithheld {
		b.PISCofinsCSLL = gross.Mul(ratePISCofinsCSLL)
	}

	b.NetAmount = gross.
		Sub(b.SocialSecurity).
		Sub(b.ServiceTax).
		Sub(b.UtilityWithholding).
		Sub(b.PISCofinsCSLL).
		Round(2)

	return b
}
